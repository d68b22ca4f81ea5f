package streamchat

import "embed"

// TemplateFS contains the embedded HTML templates used to render a conversation as a standalone page.
//
//go:embed templates/*
var TemplateFS embed.FS
