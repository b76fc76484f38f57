// Package transcode converts downloaded voice clips with an external ffmpeg
// binary.
//
// Conversion is best effort. A missing encoder, a non-zero exit, a timeout, or
// an empty output all leave the original clip in place and report the reason
// through Outcome rather than an error, so an export never fails because of
// audio conversion.
package transcode
