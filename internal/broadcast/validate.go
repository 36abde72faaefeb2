package broadcast

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Validate checks raw against the request rules and returns the typed
// request. All violations are collected. JSON null counts as absent and
// unknown keys are ignored.
func Validate(raw map[string]any) (Request, error) {
	var (
		req  Request
		errs []FieldError
	)
	fail := func(field, rule, msg string) {
		errs = append(errs, FieldError{Field: field, Rule: rule, Message: msg})
	}
	get := func(key string) (any, bool) {
		v, ok := raw[key]
		return v, ok && v != nil
	}

	// token
	if v, ok := get("token"); !ok {
		fail("token", "required", "token is required")
	} else if s, ok := v.(string); !ok {
		fail("token", "string", "token must be a string")
	} else if s == "" {
		fail("token", "required", "token is required")
	} else {
		req.Token = s
	}

	// chats_id
	if v, ok := get("chats_id"); !ok {
		fail("chats_id", "required", "chats_id is required")
	} else if arr, ok := v.([]any); !ok {
		fail("chats_id", "array", "chats_id must be an array")
	} else if len(arr) == 0 {
		fail("chats_id", "required", "chats_id must not be empty")
	} else {
		ids := make([]int64, 0, len(arr))
		seen := make(map[int64]struct{}, len(arr))
		for i, el := range arr {
			id, ok := asInt64(el)
			if !ok {
				fail("chats_id."+strconv.Itoa(i), "integer", "chat id must be an integer")
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		req.ChatIDs = ids
	}

	// text
	if v, ok := get("text"); !ok {
		fail("text", "required", "text is required")
	} else if s, ok := v.(string); !ok {
		fail("text", "string", "text must be a string")
	} else if s == "" {
		fail("text", "required", "text is required")
	} else if n := utf8.RuneCountInString(s); n > MaxTextLength {
		fail("text", "max_length", fmt.Sprintf("text must be at most %d characters, got %d", MaxTextLength, n))
	} else {
		req.Payload.Text = s
	}

	// parse_mode
	_, hasEntities := get("entities")
	if v, ok := get("parse_mode"); ok {
		if s, ok := v.(string); !ok {
			fail("parse_mode", "string", "parse_mode must be a string")
		} else if _, known := parseModes[s]; !known {
			fail("parse_mode", "one_of", "parse_mode must be one of HTML, Markdown, MarkdownV2")
		} else {
			req.Payload.ParseMode = s
		}
		if hasEntities {
			fail("parse_mode", "exclusive", "parse_mode cannot be used together with entities")
		}
	}

	// flags
	for _, key := range []string{"disable_web_page_preview", "disable_notification"} {
		v, ok := get(key)
		if !ok {
			continue
		}
		b, ok := v.(bool)
		if !ok {
			fail(key, "boolean", key+" must be a boolean")
			continue
		}
		if key == "disable_web_page_preview" {
			req.Payload.DisableWebPagePreview = &b
		} else {
			req.Payload.DisableNotification = &b
		}
	}

	// entities
	if v, ok := get("entities"); ok {
		if arr, ok := v.([]any); !ok {
			fail("entities", "array", "entities must be an array")
		} else {
			req.Payload.Entities = arr
		}
	}

	if v, ok := get("reply_markup"); ok {
		req.Payload.ReplyMarkup = v
	}

	if len(errs) > 0 {
		return Request{}, &ValidationError{Fields: errs}
	}
	return req, nil
}

// maxChatID is the largest integer a JSON number carries exactly in every
// client; chat ids outside +/- 2^53 are rejected.
const maxChatID = 1 << 53

// asInt64 accepts JSON numbers without a fraction. Decoders using UseNumber
// hand us json.Number; plain decoding gives float64.
func asInt64(v any) (int64, bool) {
	var i int64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, false
		}
		i = parsed
	case int:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > maxChatID {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
	if i > maxChatID || i < -maxChatID {
		return 0, false
	}
	return i, true
}
