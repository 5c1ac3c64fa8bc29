/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package scoutslog

import (
	"strings"

	"github.com/yakumioto/scoutslog/tracked"
)

// OperationType is the kind of entrypoint a tracked request was classified as.
type OperationType string

const (
	OperationController OperationType = "controller"
	OperationJob        OperationType = "job"
	OperationCustom     OperationType = "custom"
)

// operationPrefixes are checked in order.
var operationPrefixes = []struct {
	prefix string
	typ    OperationType
}{
	{tracked.ControllerPrefix, OperationController},
	{tracked.JobPrefix, OperationJob},
	{tracked.CustomPrefix, OperationCustom},
}

// OperationDetail is the entrypoint of a tracked request with its prefix stripped.
type OperationDetail struct {
	Name string
	Type OperationType
}

// EntrypointAttribute returns the record field the entrypoint name is written under,
// e.g. "controller_entrypoint".
func (d OperationDetail) EntrypointAttribute() string {
	return string(d.Type) + "_entrypoint"
}

// ParseOperation classifies a single operation string such as "Controller/Foo".
// It reports false when the string has none of the known prefixes.
func ParseOperation(operation string) (OperationDetail, bool) {
	for _, p := range operationPrefixes {
		if name, ok := strings.CutPrefix(operation, p.prefix); ok {
			return OperationDetail{Name: name, Type: p.typ}, true
		}
	}
	return OperationDetail{}, false
}

// ClassifyRequest derives the entrypoint of req.
//
// An operation set on the request wins and is classified as is. Without one, completed
// spans are scanned from the most recently completed backwards and the first span with
// a known prefix is used.
func ClassifyRequest(req *tracked.Request) (OperationDetail, bool) {
	if req == nil {
		return OperationDetail{}, false
	}

	if operation := req.Operation(); operation != "" {
		return ParseOperation(operation)
	}

	spans := req.CompleteSpans()
	for i := len(spans) - 1; i >= 0; i-- {
		if detail, ok := ParseOperation(spans[i].Operation()); ok {
			return detail, true
		}
	}

	return OperationDetail{}, false
}
