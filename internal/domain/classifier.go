package domain

import (
	"strings"
	"time"
)

// AuthorFromURI extracts the DID authority segment from an AT-URI
// (at://did:plc:abc123/app.bsky.feed.post/rkey). Returns "" if the URI is
// not parseable. No lookup is needed, so the same-author test works even
// when the subject post was never indexed.
func AuthorFromURI(atURI string) string {
	rest, ok := strings.CutPrefix(atURI, "at://")
	if !ok {
		return ""
	}
	authority, _, _ := strings.Cut(rest, "/")
	if !strings.HasPrefix(authority, "did:") {
		return ""
	}
	return authority
}

// ClassifyRepost decides the visibility of a repost at ingestion time.
//
// A repost is suppressed only when the reposter is the subject's author and
// the subject post is known to be younger than threshold. If the subject was
// never indexed its age is unknowable; those reposts pass through visible
// rather than risk suppressing legitimate old content.
func ClassifyRepost(reposterDID, subjectAuthorDID string, subjectCreatedAt *time.Time, now time.Time, threshold time.Duration) bool {
	if subjectAuthorDID == "" || reposterDID != subjectAuthorDID {
		return true
	}
	if subjectCreatedAt == nil {
		return true
	}
	return now.Sub(*subjectCreatedAt) >= threshold
}
