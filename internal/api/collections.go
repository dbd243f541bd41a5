package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/auth"
	"github.com/JakeFAU/infra-api/internal/metrics"
)

// Collection names served under /api.
const (
	collectionVMs            = "vms"
	collectionTemplates      = "templates"
	collectionNetworkRouters = "network_routers"
	collectionTasks          = "tasks"
	collectionProviders      = "providers"
	collectionServers        = "servers"
)

const (
	defaultLimit = 1000
	maxLimit     = 10000
	maxBodyBytes = 1 << 20
)

// actionCall carries one action invocation on one resource (or on the
// collection for create).
type actionCall struct {
	collection string
	action     string
	// id is empty for collection-level create.
	id       string
	data     map[string]any
	identity auth.Identity
	base     string
}

// actionFunc runs an action. It returns an ActionResult or, for actions that
// answer with a resource, its representation.
type actionFunc func(ctx context.Context, call *actionCall) (any, error)

type actionSpec struct {
	feature string
	// verb completes "Must specify an id for <verb> a <collection> resource".
	verb       string
	onResource bool
	onBulk     bool
	create     bool
	run        actionFunc
}

type pageFunc func(ctx context.Context, limit, offset int) ([]map[string]any, int, error)

type getFunc func(ctx context.Context, id string) (map[string]any, error)

// collection describes one REST collection: its identifiers, readers, and
// actions.
type collection struct {
	name            string
	klass           string
	showList        string
	show            string
	page            pageFunc
	get             getFunc
	actions         map[string]actionSpec
	options         http.HandlerFunc
	resourceOptions http.HandlerFunc
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, feature string) (auth.Identity, bool) {
	id, _ := auth.FromContext(r.Context())
	if s.deps.Auth == nil || s.deps.Auth.Authorized(id, feature) {
		return id, true
	}
	s.logger.Info("authorization denied",
		zap.String("userid", id.UserID),
		zap.String("role", id.Role),
		zap.String("feature", feature),
	)
	auth.Forbidden(w, feature)
	return id, false
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.Server.BaseURL != "" {
		return strings.TrimRight(s.cfg.Server.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func href(base, collection, id string) string {
	return fmt.Sprintf("%s/api/%s/%s", base, collection, id)
}

// parseHref splits an href (absolute or /api relative) into collection and id.
func parseHref(raw string) (string, string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "api" && i+2 < len(parts) {
			return parts[i+1], parts[i+2], true
		}
	}
	return "", "", false
}

func (s *Server) listCollection(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authorize(w, r, c.showList); !ok {
			return
		}
		limit, offset, err := parseLimitOffset(r, defaultLimit, maxLimit)
		if err != nil {
			writeErr(w, badRequest("%s", err.Error()))
			return
		}
		items, total, err := c.page(r.Context(), limit, offset)
		if err != nil {
			s.logger.Error("list collection failed", zap.String("collection", c.name), zap.Error(err))
			writeErr(w, err)
			return
		}

		q := r.URL.Query()
		expand := hasExpand(q.Get("expand"), "resources")
		attrs := splitList(q.Get("attributes"))
		base := s.baseURL(r)

		resources := make([]map[string]any, 0, len(items))
		for _, item := range items {
			id := fmt.Sprint(item["id"])
			link := href(base, c.name, id)
			if !expand && len(attrs) == 0 {
				resources = append(resources, map[string]any{"href": link})
				continue
			}
			item["href"] = link
			resources = append(resources, selectAttributes(item, attrs))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":      c.name,
			"count":     total,
			"subcount":  len(resources),
			"resources": resources,
		})
	}
}

func (s *Server) getResource(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authorize(w, r, c.show); !ok {
			return
		}
		id := chi.URLParam(r, "id")
		item, err := c.get(r.Context(), id)
		if err != nil {
			writeErr(w, notFound(err, c.klass, id))
			return
		}
		item["href"] = href(s.baseURL(r), c.name, id)
		writeJSON(w, http.StatusOK, selectAttributes(item, splitList(r.URL.Query().Get("attributes"))))
	}
}

func (s *Server) postResource(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decodeBody(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		action := body.action
		if action == "" {
			action = "edit"
		}
		act, ok := c.actions[action]
		if !ok || !act.onResource {
			writeErr(w, unsupported(action, c.name))
			return
		}
		identity, ok := s.authorize(w, r, act.feature)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")
		data := body.resource
		if data == nil {
			data = body.rest
		}
		call := &actionCall{collection: c.name, action: action, id: id, data: data, identity: identity, base: s.baseURL(r)}
		out, err := act.run(r.Context(), call)
		s.observe(c.name, action, out, err)
		if err != nil {
			writeErr(w, notFound(err, c.klass, id))
			return
		}
		writeJSON(w, http.StatusOK, withHref(out, call))
	}
}

func (s *Server) postCollection(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decodeBody(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		action := body.action
		if action == "" {
			action = "create"
		}
		act, ok := c.actions[action]
		if !ok || !(act.onBulk || act.create) {
			writeErr(w, unsupported(action, c.name))
			return
		}
		identity, ok := s.authorize(w, r, act.feature)
		if !ok {
			return
		}

		entries := body.resources
		if entries == nil && body.resource != nil {
			entries = []map[string]any{body.resource}
		}
		if len(entries) == 0 {
			writeErr(w, badRequest("No resources specified for the %s action", action))
			return
		}

		base := s.baseURL(r)
		results := make([]any, 0, len(entries))
		anyBad := false
		for _, entry := range entries {
			out, bad := s.runBulkEntry(r.Context(), c, act, action, entry, identity, base)
			anyBad = anyBad || bad
			results = append(results, out)
		}
		status := http.StatusOK
		if anyBad {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]any{"results": results})
	}
}

func (s *Server) runBulkEntry(
	ctx context.Context,
	c *collection,
	act actionSpec,
	action string,
	entry map[string]any,
	identity auth.Identity,
	base string,
) (any, bool) {
	call := &actionCall{collection: c.name, action: action, identity: identity, base: base}
	if act.create {
		call.data = entry
	} else {
		id, ok := entryID(entry, c.name)
		if !ok {
			err := badRequest("Must specify an id for %s a %s resource", act.verb, c.name)
			s.observe(c.name, action, nil, err)
			return failed(err.Error()), true
		}
		call.id = id
		call.data = withoutKeys(entry, "id", "href")
	}

	out, err := act.run(ctx, call)
	s.observe(c.name, action, out, err)
	if err != nil {
		var bad *BadRequestError
		if errors.As(err, &bad) {
			return failed(bad.Message), true
		}
		return withHref(failed(notFound(err, c.klass, call.id).Error()), call), false
	}
	return withHref(out, call), false
}

func (s *Server) deleteResource(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		act, ok := c.actions["delete"]
		if !ok || !act.onResource {
			writeErr(w, unsupported("delete", c.name))
			return
		}
		identity, ok := s.authorize(w, r, act.feature)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		call := &actionCall{collection: c.name, action: "delete", id: id, identity: identity, base: s.baseURL(r)}
		out, err := act.run(r.Context(), call)
		s.observe(c.name, "delete", out, err)
		if err != nil {
			writeErr(w, notFound(err, c.klass, id))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) observe(collectionName, action string, out any, err error) {
	outcome := metrics.OutcomeCompleted
	var bad *BadRequestError
	switch {
	case errors.As(err, &bad):
		outcome = metrics.OutcomeBadRequest
	case err != nil:
		outcome = metrics.OutcomeFailed
	default:
		if res, ok := out.(ActionResult); ok {
			switch {
			case res.Forwarded():
				outcome = metrics.OutcomeForwarded
			case !res.Success:
				outcome = metrics.OutcomeFailed
			case res.TaskID != "":
				outcome = metrics.OutcomeQueued
			}
		}
	}
	metrics.ObserveAction(collectionName, action, outcome)
}

func unsupported(action, collectionName string) error {
	return badRequest("Unsupported Action %s for the %s resource specified", action, collectionName)
}

// withHref fills in the resource href of action results that lack one.
func withHref(out any, call *actionCall) any {
	res, ok := out.(ActionResult)
	if !ok || res.Forwarded() || res.Href != "" || call.id == "" {
		return out
	}
	res.Href = href(call.base, call.collection, call.id)
	return res
}

type actionBody struct {
	action    string
	resource  map[string]any
	resources []map[string]any
	rest      map[string]any
}

func decodeBody(r *http.Request) (actionBody, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return actionBody{}, fmt.Errorf("read body: %w", err)
	}
	var body actionBody
	if len(strings.TrimSpace(string(raw))) == 0 {
		return body, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return actionBody{}, badRequest("Invalid JSON request body - %s", err.Error())
	}
	if a, ok := m["action"]; ok {
		s, isString := a.(string)
		if !isString {
			return actionBody{}, badRequest("Invalid action specified")
		}
		body.action = s
	}
	if res, ok := m["resource"]; ok {
		obj, isObject := res.(map[string]any)
		if !isObject {
			return actionBody{}, badRequest("Invalid resource specified")
		}
		body.resource = obj
	}
	if list, ok := m["resources"]; ok {
		items, isList := list.([]any)
		if !isList {
			return actionBody{}, badRequest("Invalid resources specified")
		}
		body.resources = make([]map[string]any, 0, len(items))
		for _, item := range items {
			obj, isObject := item.(map[string]any)
			if !isObject {
				return actionBody{}, badRequest("Invalid resources specified")
			}
			body.resources = append(body.resources, obj)
		}
	}
	body.rest = withoutKeys(m, "action", "resource", "resources")
	return body, nil
}

// entryID extracts the id of a bulk entry from "id" or an href into collectionName.
func entryID(entry map[string]any, collectionName string) (string, bool) {
	if v, ok := entry["id"]; ok && v != nil {
		if id := formatID(v); id != "" {
			return id, true
		}
	}
	if v, ok := entry["href"].(string); ok {
		coll, id, parsed := parseHref(v)
		if parsed && coll == collectionName {
			return id, true
		}
	}
	return "", false
}

func formatID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func withoutKeys(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func parseLimitOffset(r *http.Request, def, limitCap int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, limitCap)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasExpand(raw, what string) bool {
	for _, p := range splitList(raw) {
		if p == what {
			return true
		}
	}
	return false
}

// selectAttributes restricts m to attrs; id and href are always kept.
func selectAttributes(m map[string]any, attrs []string) map[string]any {
	if len(attrs) == 0 {
		return m
	}
	out := map[string]any{}
	for _, key := range append([]string{"id", "href"}, attrs...) {
		if v, ok := m[key]; ok {
			out[key] = v
		}
	}
	return out
}

// pageSlice applies limit/offset to an already sorted slice of representations.
func pageSlice(items []map[string]any, limit, offset int) []map[string]any {
	if offset >= len(items) {
		return []map[string]any{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// render converts a record to its JSON object form, rendering ids (id, *_id
// and the elements of *_ids) as strings.
func render(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	for k, val := range m {
		switch {
		case k == "id" || strings.HasSuffix(k, "_id"):
			if f, ok := val.(float64); ok {
				m[k] = strconv.FormatInt(int64(f), 10)
			}
		case strings.HasSuffix(k, "_ids"):
			list, ok := val.([]any)
			if !ok {
				continue
			}
			ids := make([]any, len(list))
			for i, item := range list {
				if f, isNum := item.(float64); isNum {
					ids[i] = strconv.FormatInt(int64(f), 10)
				} else {
					ids[i] = item
				}
			}
			m[k] = ids
		}
	}
	return m, nil
}

func renderAll[T any](records []T) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		m, err := render(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseInt64ID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
