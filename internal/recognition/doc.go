// Package recognition turns screenshot regions into field text. It manages a
// fixed pool of warmed engine handles, wraps every engine call in timeout,
// retry, and byte-hash caching, and assembles per-article results by pairing
// recognized fields with sidecar data left behind by the capture stage.
package recognition
