// Package fetch downloads remote media files for export jobs.
//
// A Fetcher performs a streamed HTTP GET per attempt. The attempt timeout
// bounds connection setup and response headers, then acts as an idle timeout
// on the body: a transfer fails only when it stops making progress. It retries transport errors, 408, 429, and 5xx responses up to a bounded
// attempt count, and writes through a ".part" file so a destination path
// either holds a complete download or does not exist. Outcomes are returned as
// Result values; callers decide whether a failure matters.
package fetch
