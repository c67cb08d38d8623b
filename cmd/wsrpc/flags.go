package main

import (
	"fmt"
	"net/http"
	"strings"
)

// headerFlag collects repeated -header Name:Value flags
type headerFlag []string

func (h *headerFlag) String() string {
	if h == nil {
		return ""
	}
	return strings.Join(*h, ",")
}

func (h *headerFlag) Set(value string) error {
	name, val, ok := strings.Cut(value, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header must be Name:Value, got %q", value)
	}
	*h = append(*h, strings.TrimSpace(name)+":"+strings.TrimSpace(val))
	return nil
}

func (h headerFlag) header() http.Header {
	if len(h) == 0 {
		return nil
	}
	header := http.Header{}
	for _, entry := range h {
		name, val, _ := strings.Cut(entry, ":")
		header.Add(name, val)
	}
	return header
}
