// Package geo validates coordinates and resolves a visitor location through a
// fixed cascade of sources: client GPS, client IP estimate, the offline GeoIP
// database and finally a single network lookup. The first source with an answer
// wins and fields are never merged across sources.
package geo
