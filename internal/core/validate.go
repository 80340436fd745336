package core

import "strings"

// Limits GitHub enforces on issue and pull request text. Checking them here
// turns an upstream 422 into an immediate invalid-request error.
const (
	MaxTitleLen   = 256
	MaxBodyLen    = 65536
	MaxLabels     = 100
	MaxLabelLen   = 50
	MaxAssignees  = 10
	MaxCommentLen = 65536
)

// ValidateIssueText checks the text fields of a new issue or pull request.
func ValidateIssueText(title, body string) error {
	return ValidateIssuePatch(&title, &body)
}

// ValidateIssuePatch is ValidateIssueText for partial updates; nil fields are
// left unchanged upstream and are not checked.
func ValidateIssuePatch(title, body *string) error {
	if title != nil {
		if strings.TrimSpace(*title) == "" {
			return InvalidRequest("title must not be blank")
		}
		if len(*title) > MaxTitleLen {
			return InvalidRequest("title exceeds %d characters", MaxTitleLen)
		}
	}
	if body != nil && len(*body) > MaxBodyLen {
		return InvalidRequest("body exceeds %d characters", MaxBodyLen)
	}
	return nil
}

// ValidateIssueLabels checks label and assignee lists before they are sent.
func ValidateIssueLabels(labels, assignees []string) error {
	if len(labels) > MaxLabels {
		return InvalidRequest("too many labels: %d > %d", len(labels), MaxLabels)
	}
	for _, l := range labels {
		if strings.TrimSpace(l) == "" {
			return InvalidRequest("label must not be blank")
		}
		if len(l) > MaxLabelLen {
			return InvalidRequest("label %q exceeds %d characters", l, MaxLabelLen)
		}
	}
	if len(assignees) > MaxAssignees {
		return InvalidRequest("too many assignees: %d > %d", len(assignees), MaxAssignees)
	}
	return nil
}

func ValidateComment(body string) error {
	if strings.TrimSpace(body) == "" {
		return InvalidRequest("comment body must not be blank")
	}
	if len(body) > MaxCommentLen {
		return InvalidRequest("comment exceeds %d characters", MaxCommentLen)
	}
	return nil
}
