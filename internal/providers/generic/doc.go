// Package generic implements providers.Adapter for the biquge template
// family and its mirrors. Each capability walks an ordered list of DOM
// strategies and falls back to whole-page heuristics.
package generic
