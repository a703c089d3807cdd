package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/bitable"
	"github.com/agrilink-solutions/farm-trace-service/internal/farm"
)

// response is the envelope every JSON endpoint answers with. Code 0 is
// success, 1 is failure.
type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, response{Code: 0, Message: "success", Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, response{Code: 1, Message: message})
}

// respondError maps domain errors onto HTTP statuses without leaking remote
// details to the caller.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bitable.ErrForbidden):
		fail(c, http.StatusForbidden, "farmer not authorized")
	case errors.Is(err, bitable.ErrNotFound), errors.Is(err, bitable.ErrUnknownTable):
		fail(c, http.StatusNotFound, "not found")
	case errors.Is(err, bitable.ErrRemoteUnavailable), bitable.IsRemoteRejected(err):
		log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Upstream failure")
		fail(c, http.StatusBadGateway, "upstream unavailable")
	default:
		log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Request failed")
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) getFarmInfo(c *gin.Context) {
	tenantNum := c.Query("tenant")
	productID := c.Query("product_id")
	if tenantNum == "" || productID == "" {
		fail(c, http.StatusBadRequest, "tenant and product_id are required")
		return
	}

	info, err := s.info.CompleteInfo(c.Request.Context(), tenantNum, productID)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, info)
}

func (s *Server) getFarmTables(c *gin.Context) {
	tenantNum := c.Query("tenant")
	if tenantNum == "" {
		fail(c, http.StatusBadRequest, "tenant is required")
		return
	}

	tables, err := s.tenants.Tables(c.Request.Context(), tenantNum)
	if err != nil {
		respondError(c, err)
		return
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	ok(c, gin.H{"tables": names})
}

// getImage proxies an attachment download through the tenant's credential so
// consumers never see remote URLs or tokens with auth attached.
func (s *Server) getImage(c *gin.Context) {
	tenantNum := c.Query("tenant")
	token := c.Param("token")
	if tenantNum == "" || token == "" {
		fail(c, http.StatusBadRequest, "tenant and token are required")
		return
	}

	client, _, err := s.tenants.ClientFor(tenantNum)
	if err != nil {
		respondError(c, err)
		return
	}

	body, contentType, length, err := client.DownloadAttachment(c.Request.Context(), token)
	if err != nil {
		respondError(c, err)
		return
	}
	defer drainClose(body)

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, length, contentType, body, nil)
}

func (s *Server) postDHT11(c *gin.Context) {
	tenantNum := c.Query("tenant")
	if tenantNum == "" {
		fail(c, http.StatusBadRequest, "tenant is required")
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable body")
		return
	}

	reading, err := farm.DecodeDHT11(payload)
	if err != nil {
		// Some gateways post the decoded pair directly.
		reading, err = farm.DecodePassthrough(payload)
		if err != nil {
			fail(c, http.StatusBadRequest, "unrecognized sensor payload")
			return
		}
	}

	applied, err := s.sensors.Apply(c.Request.Context(), tenantNum, reading)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"applied": applied})
}

// getLiveCallback answers the streaming platform's viewer check. The platform
// tunnels the original parameters through a single qs field, so that is
// parsed first with plain parameters as fallback.
func (s *Server) getLiveCallback(c *gin.Context) {
	tenantNum := c.Query("tenant")
	productID := c.Query("product_id")
	if qs := c.Query("qs"); qs != "" {
		if params, err := url.ParseQuery(qs); err == nil {
			if v := params.Get("tenant"); v != "" {
				tenantNum = v
			}
			if v := params.Get("product_id"); v != "" {
				productID = v
			}
		}
	}
	if tenantNum == "" || productID == "" {
		fail(c, http.StatusBadRequest, "tenant and product_id are required")
		return
	}

	authorized, err := s.tenants.IsAuthorized(c.Request.Context(), tenantNum, productID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !authorized {
		fail(c, http.StatusForbidden, "farmer not authorized")
		return
	}
	ok(c, gin.H{"authorized": true})
}

func (s *Server) getTenantStats(c *gin.Context) {
	stats, err := s.tenants.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, stats)
}
