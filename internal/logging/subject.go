package logging

import "strings"

const shortJobIDLength = 8

// FormatSubject builds the job/stage prefix used in console output, for
// example "job 3f2a9c1e (fetch)".
func FormatSubject(jobID, stage string) string {
	jobID = strings.TrimSpace(jobID)
	stage = strings.TrimSpace(stage)
	if len(jobID) > shortJobIDLength {
		jobID = jobID[:shortJobIDLength]
	}
	switch {
	case jobID != "" && stage != "":
		return "job " + jobID + " (" + stage + ")"
	case jobID != "":
		return "job " + jobID
	default:
		return stage
	}
}
