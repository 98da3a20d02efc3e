// Package hotness scores how often mosaic requests repeat, so the cache
// scenario only stores responses worth keeping.
package hotness

type Interface interface {
	Inc(key string)
	Score(key string) float64
	Reset(keys ...string)
}
