package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/deixis/typhonweb/internal/engine"
	"github.com/deixis/typhonweb/internal/i18n"
	"github.com/deixis/typhonweb/internal/report"
	"github.com/deixis/typhonweb/internal/request"
)

// maxBodyBytes caps a run request body.
const maxBodyBytes = 1 << 20

// recentRuns is how many runs GET /api/runs lists.
const recentRuns = 20

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "service": ServiceName})
}

func (s *Server) messages(c *gin.Context) {
	lang := requestLang(c)
	c.JSON(http.StatusOK, gin.H{
		"lang":      lang,
		"supported": i18n.Supported(),
		"messages":  i18n.Table(lang),
	})
}

func (s *Server) tokens(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tokens": s.engine.Scope.Tokens()})
}

// run executes a request synchronously and answers with the run result.
func (s *Server) run(c *gin.Context) {
	lang := requestLang(c)

	body, err := readBody(c)
	if err != nil {
		s.fail(c, lang, err)
		return
	}
	req, err := request.DecodeJSON(body)
	if err != nil {
		s.fail(c, lang, err)
		return
	}

	res, err := s.engine.Run(c.Request.Context(), req, nil)
	if err != nil {
		s.fail(c, lang, err)
		return
	}
	s.log.Debug("run answered", zap.String("run_id", res.ID), zap.String("status", string(res.Status)))

	out, err := resultJSON(res, lang)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.Data(statusCode(res.Status), "application/json; charset=utf-8", out)
}

func readBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		return nil, &request.ValidationError{Field: "body", Key: "error.bad_body", Err: err}
	}
	return body, nil
}

// resultJSON encodes res for the console, adding the localized status
// text next to the fields the engine produced.
func resultJSON(res *report.RunResult, lang i18n.Lang) ([]byte, error) {
	out, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "status_text", i18n.T(lang, "status."+string(res.Status)))
	if err != nil {
		return nil, err
	}
	if len(res.Transcript) > 0 {
		// Ready to paste into a terminal view.
		out, err = sjson.SetBytes(out, "output", res.Text())
	}
	return out, err
}

// statusCode maps a run status to the HTTP status the console expects.
func statusCode(st report.Status) int {
	switch st {
	case report.StatusOK:
		return http.StatusOK
	case report.StatusTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail answers a request that did not produce a run result.
func (s *Server) fail(c *gin.Context, lang i18n.Lang, err error) {
	var ve *request.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":    false,
			"error": ve.Localize(lang),
			"field": ve.Field,
		})
	case errors.Is(err, engine.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": i18n.T(lang, "error.busy")})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	}
}

// runSummary is one entry of the run history.
type runSummary struct {
	ID         string        `json:"id"`
	Mode       report.Kind   `json:"mode"`
	Target     string        `json:"target"`
	Status     report.Status `json:"status"`
	Payloads   int           `json:"payloads"`
	DurationMS int64         `json:"duration_ms"`
}

func (s *Server) listRuns(c *gin.Context) {
	recent := s.store.Recent(recentRuns)
	out := make([]runSummary, 0, len(recent))
	for _, r := range recent {
		out = append(out, runSummary{
			ID:         r.ID,
			Mode:       r.Kind,
			Target:     r.Target,
			Status:     r.Status,
			Payloads:   len(r.Payloads),
			DurationMS: r.DurationMS,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) loadRun(c *gin.Context) (*report.RunResult, bool) {
	id := c.Param("id")
	res, err := s.store.Load(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"ok":    false,
			"error": i18n.T(requestLang(c), "error.not_found", id),
		})
		return nil, false
	}
	return res, true
}

func (s *Server) getRun(c *gin.Context) {
	res, ok := s.loadRun(c)
	if !ok {
		return
	}
	out, err := resultJSON(res, requestLang(c))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}

// searchRun returns transcript lines containing q, or the last tail lines
// when q is empty.
func (s *Server) searchRun(c *gin.Context) {
	res, ok := s.loadRun(c)
	if !ok {
		return
	}
	var matches []report.Match
	if q := c.Query("q"); q != "" {
		matches = report.Search(res, q)
	} else {
		n, _ := strconv.Atoi(c.DefaultQuery("tail", "50"))
		matches = report.Tail(res, n)
	}
	if matches == nil {
		matches = []report.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"id": res.ID, "matches": matches})
}
