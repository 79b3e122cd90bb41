// Package crawler holds the domain model of the publications crawler:
// organizations, sessions, canonical and staged documents, the store and
// adapter contracts, and the URL and fingerprint helpers shared by the
// pipeline and the download engine.
//
// Document ids are content fingerprints:
//
//	<ACRONYM-REGION>_<md5(title)>[_<LANG>]_<md5(pdf link without ".pdf")>
//
// The same id names the canonical row and the file on disk.
package crawler
