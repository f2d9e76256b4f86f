// Package http serves a read-only view of an output store.
package http

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"go.ngs.io/ensemble-store/internal/adapter/store"
)

// RootGroup is the URL name of the top-level group.
const RootGroup = "root"

// MaxValues bounds the number of values one request may read.
const MaxValues = 1 << 20

// Handler handles HTTP requests against a store.
type Handler struct {
	store store.Store
	clock clockwork.Clock
}

// NewHandler creates a new HTTP handler.
func NewHandler(s store.Store) *Handler {
	return &Handler{store: s, clock: clockwork.NewRealClock()}
}

func groupName(param string) string {
	if param == RootGroup {
		return store.Root
	}
	return param
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrOutOfBounds):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ListGroups handles GET /v1/groups.
func (h *Handler) ListGroups(c *gin.Context) {
	groups := append([]string{RootGroup}, h.store.Groups()...)
	c.JSON(http.StatusOK, gin.H{
		"groups": groups,
		"count":  len(groups),
	})
}

// GetGroup handles GET /v1/groups/:group.
func (h *Handler) GetGroup(c *gin.Context) {
	info, err := h.store.Describe(groupName(c.Param("group")))
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	if info.Name == store.Root {
		info.Name = RootGroup
	}
	c.JSON(http.StatusOK, info)
}

// ValuesResponse is the response for a variable slab.
type ValuesResponse struct {
	Group    string     `json:"group"`
	Variable string     `json:"variable"`
	Dims     []string   `json:"dims"`
	Start    []int      `json:"start"`
	Count    []int      `json:"count"`
	Values   []*float64 `json:"values"`
}

// GetValues handles GET /v1/groups/:group/variables/:name/values.
//
// Query parameters:
//
//	time    index on a leading time dimension (default 0)
//	member  index on an ensemble dimension (default: every member)
//
// Unknown (NaN) values are returned as null.
func (h *Handler) GetValues(c *gin.Context) {
	group := groupName(c.Param("group"))
	name := c.Param("name")

	info, err := h.store.Describe(group)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	var v *store.VarInfo
	for i := range info.Vars {
		if info.Vars[i].Name == name {
			v = &info.Vars[i]
		}
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("variable %q not found in group %q", name, c.Param("group"))})
		return
	}

	start := make([]int, len(v.Dims))
	count := append([]int(nil), v.Shape...)
	for i, dim := range v.Dims {
		var key string
		switch dim {
		case "time":
			key = "time"
			if i == 0 && len(v.Dims) > 1 {
				count[i] = 1
			}
		case "ensemble":
			key = "member"
		default:
			continue
		}
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s index %q", key, raw)})
			return
		}
		start[i], count[i] = idx, 1
	}

	n := store.Size(count)
	if n > MaxValues {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("slab of %d values exceeds the limit of %d", n, MaxValues)})
		return
	}
	data, err := h.store.ReadSlab(group, name, start, count)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}

	values := make([]*float64, len(data))
	for i := range data {
		if !math.IsNaN(data[i]) && !math.IsInf(data[i], 0) {
			values[i] = &data[i]
		}
	}
	c.JSON(http.StatusOK, ValuesResponse{
		Group:    c.Param("group"),
		Variable: name,
		Dims:     v.Dims,
		Start:    start,
		Count:    count,
		Values:   values,
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"groups": len(h.store.Groups()),
		"time":   h.clock.Now().UTC().Format(time.RFC3339),
	})
}
