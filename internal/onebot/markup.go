package onebot

import (
	"fmt"
	"regexp"
)

// CQ codes understood by OneBot gateways.

func Image(url string) string { return fmt.Sprintf("[CQ:image,file=%s]", url) }

func At(userID string) string { return fmt.Sprintf("[CQ:at,qq=%s]", userID) }

func AtAll() string { return "[CQ:at,qq=all]" }

func Face(id int) string { return fmt.Sprintf("[CQ:face,id=%d]", id) }

var mentionPattern = regexp.MustCompile(`(?i)\[CQ:at,qq=(\d+)\]`)

// FirstMention returns the user ID of the first numeric at-mention in text.
func FirstMention(text string) (string, bool) {
	m := mentionPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
