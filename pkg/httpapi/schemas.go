package httpapi

import (
	"fmt"
	"strings"

	"github.com/harun/wabridge/pkg/command"
	"github.com/xeipuuv/gojsonschema"
)

const (
	sendTextSchema = `{
		"type": "object",
		"required": ["to", "body"],
		"properties": {
			"to": {"type": "string", "minLength": 1},
			"body": {"type": "string"}
		}
	}`

	sendMediaSchema = `{
		"type": "object",
		"required": ["to", "mediaRef", "mediaKind"],
		"properties": {
			"to": {"type": "string", "minLength": 1},
			"mediaRef": {"type": "string", "minLength": 1},
			"mediaKind": {"type": "string", "enum": ["image", "audio", "document"]},
			"caption": {"type": "string"}
		}
	}`

	mentionAllSchema = `{
		"type": "object",
		"required": ["groupId"],
		"properties": {
			"groupId": {"type": "string", "minLength": 1},
			"message": {"type": "string"},
			"anonymous": {"type": "boolean"}
		}
	}`

	blockSchema = `{
		"type": "object",
		"required": ["contactId", "blocked"],
		"properties": {
			"contactId": {"type": "string", "minLength": 1},
			"blocked": {"type": "boolean"}
		}
	}`

	webhookSchema = `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string"},
			"ignoreGroupEvents": {"type": "boolean"}
		}
	}`

	automationSchema = `{
		"type": "object",
		"properties": {
			"to": {"type": "string"},
			"message": {"type": "string"},
			"mediaRef": {"type": "string"},
			"mediaUrl": {"type": "string"},
			"mediaKind": {"type": "string"},
			"mediaType": {"type": "string"},
			"caption": {"type": "string"},
			"groupId": {"type": "string"},
			"mentionAll": {"type": "boolean"},
			"anonymous": {"type": "boolean"}
		}
	}`
)

var (
	sendTextValidator   = mustCompile(sendTextSchema)
	sendMediaValidator  = mustCompile(sendMediaSchema)
	mentionAllValidator = mustCompile(mentionAllSchema)
	blockValidator      = mustCompile(blockSchema)
	webhookValidator    = mustCompile(webhookSchema)
	automationValidator = mustCompile(automationSchema)
)

func mustCompile(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return s
}

// validate checks body against schema and reports every violation.
func validate(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: malformed JSON body", command.ErrInvalidRequest)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("%w: %s", command.ErrInvalidRequest, strings.Join(problems, "; "))
}
