// Package fetch is the transport beneath the bundle cache.
//
// A Fetcher turns a URL into bytes. HTTP covers http and https, File covers
// file:// URLs and local paths, and Mux routes by scheme. Fetchers know
// nothing about script ids, deduplication or timeouts; the cache package
// layers those on top.
package fetch
