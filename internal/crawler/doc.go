// Package crawler defines the shared vocabulary of the thread crawler: the
// records it produces, the collaborator interfaces the pipeline depends on
// (fetchers, parsers, sinks, the rate gate and the id queue), the page source
// that partitions listing pages between workers, and the retry policy.
package crawler
