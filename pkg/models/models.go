// Package models defines the domain models for the workflow service
package models

import (
	"time"
)

// DefaultPageSize is used when a caller does not ask for a page size.
const DefaultPageSize = 20

// MaxPageSize caps any requested page size.
const MaxPageSize = 100

// PageRequest carries 1-based pagination parameters
type PageRequest struct {
	Page     int `json:"page" query:"page"`
	PageSize int `json:"page_size" query:"page_size"`
}

// Normalize clamps the page request to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the row offset of the first record on the page.
func (p PageRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// Page is one page of a listing
type Page[T any] struct {
	Records  []*T `json:"records"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
}

// NewPage builds a page from already-sliced records.
func NewPage[T any](records []*T, total int, req PageRequest) *Page[T] {
	req = req.Normalize()
	if records == nil {
		records = []*T{}
	}
	return &Page[T]{Records: records, Total: total, Page: req.Page, PageSize: req.PageSize}
}

// ComponentInfo describes a registered node kind
type ComponentInfo struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Remark   string `json:"remark"`
	IsEnable bool   `json:"is_enable"`
}

// OperatorInfo describes an entry of the switch operator catalog
type OperatorInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Kind     string `json:"kind,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}
