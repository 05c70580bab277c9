// Package crawler defines the domain types, collaborator interfaces, and URL
// helpers shared by the webhook intake and the crawl worker.
//
// Nothing in this package performs I/O. Concrete job runners, blob stores,
// notifiers, and the sitemap crawl itself live in their own packages and are
// wired together in internal/app.
package crawler
