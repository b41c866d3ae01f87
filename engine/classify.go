package engine

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
)

// DefaultMinListingSize is the smallest body a real listing page produces.
const DefaultMinListingSize = 5000

// DefaultKeywords are challenge-page markers, matched case-insensitively.
var DefaultKeywords = []string{
	"captcha",
	"verify you are human",
	"checking your browser",
	"access denied",
	"unusual traffic",
	"are you a robot",
}

// Classifier maps a raw response to an Outcome. It is a pure function of
// its inputs.
type Classifier struct {
	MinListingSize int
	Keywords       []string
}

// DefaultClassifier returns the classifier used in production.
func DefaultClassifier() Classifier {
	return Classifier{MinListingSize: DefaultMinListingSize, Keywords: DefaultKeywords}
}

// Classify applies the rules in order: 403, 429, undersized listing page,
// challenge keyword, 200, everything else.
func (c Classifier) Classify(status int, body []byte, isDetail bool) Outcome {
	switch status {
	case http.StatusForbidden:
		return Outcome{Kind: Blocked, Status: status}
	case http.StatusTooManyRequests:
		return Outcome{Kind: RateLimited, Status: status}
	}

	if status == http.StatusOK && !isDetail && len(body) < c.MinListingSize {
		return Outcome{Kind: SoftBlocked, Status: status, Reason: "too-small"}
	}
	if kw := c.matchKeyword(body); kw != "" {
		return Outcome{Kind: SoftBlocked, Status: status, Reason: "keyword:" + kw}
	}
	if status == http.StatusOK {
		return Outcome{Kind: Success, Status: status, Body: body}
	}
	return Outcome{Kind: Fatal, Status: status, Err: fmt.Errorf("engine: unexpected status %d", status)}
}

func (c Classifier) matchKeyword(body []byte) string {
	if len(c.Keywords) == 0 || len(body) == 0 {
		return ""
	}
	lower := bytes.ToLower(body)
	for _, kw := range c.Keywords {
		if kw != "" && bytes.Contains(lower, []byte(strings.ToLower(kw))) {
			return kw
		}
	}
	return ""
}
