package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/R3E-Network/store_rating/internal/app/authz"
	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/errors"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

const (
	defaultAuditCapacity = 200
	outcomeOK            = "ok"
)

// auditRecord describes one call to a protected operation. Outcome is "ok"
// or the error kind the call ended with.
type auditRecord struct {
	At        time.Time       `json:"at"`
	Operation authz.Operation `json:"operation"`
	Outcome   string          `json:"outcome"`
	Status    int             `json:"status"`
	UserID    int64           `json:"user_id,omitempty"`
	Role      user.Role       `json:"role,omitempty"`
	Method    string          `json:"method"`
	Path      string          `json:"path"`
	Client    string          `json:"client,omitempty"`
}

// rejected reports whether the caller was turned away before the operation ran.
func (r auditRecord) rejected() bool {
	return r.Outcome == string(errors.KindAuthentication) || r.Outcome == string(errors.KindAuthorization)
}

// auditTrail keeps the newest records in a fixed ring and optionally mirrors
// each one to a JSON-lines file.
type auditTrail struct {
	log *logger.Logger

	mu    sync.Mutex
	ring  []auditRecord
	next  int
	count int
	file  *os.File
	enc   *json.Encoder
}

func newAuditTrail(capacity int, log *logger.Logger) *auditTrail {
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	return &auditTrail{log: log, ring: make([]auditRecord, capacity)}
}

// mirror appends every later record to the file at path.
func (t *auditTrail) mirror(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.file = f
	t.enc = json.NewEncoder(f)
	return nil
}

func (t *auditTrail) record(rec auditRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ring[t.next] = rec
	t.next = (t.next + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
	if t.enc == nil {
		return
	}
	if err := t.enc.Encode(rec); err != nil {
		t.log.WithError(err).WithField("operation", rec.Operation).Warn("audit file write failed")
	}
}

// recent returns up to limit of the newest records for op, oldest first.
// An empty op matches every operation and limit <= 0 means no limit.
func (t *auditTrail) recent(op authz.Operation, limit int) []auditRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]auditRecord, 0, t.count)
	for i := 1; i <= t.count; i++ {
		rec := t.ring[(t.next-i+len(t.ring))%len(t.ring)]
		if op != "" && rec.Operation != op {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	slices.Reverse(out)
	return out
}

func (t *auditTrail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file, t.enc = nil, nil
	return err
}

type auditNoteKey struct{}

// auditNote carries what the layers below audited() learn about a call.
type auditNote struct {
	id  authz.Identity
	err error
}

func noteFrom(ctx context.Context) *auditNote {
	n, _ := ctx.Value(auditNoteKey{}).(*auditNote)
	return n
}

// audited records calls to op. Reads are kept only when they were rejected.
func (h *handler) audited(op authz.Operation, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		note := &auditNote{}
		sw := &statusCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), auditNoteKey{}, note)))

		rec := auditRecord{
			At:        time.Now().UTC(),
			Operation: op,
			Outcome:   auditOutcome(sw.status, note.err),
			Status:    sw.status,
			UserID:    note.id.UserID,
			Role:      note.id.Role,
			Method:    r.Method,
			Path:      r.URL.Path,
			Client:    r.RemoteAddr,
		}
		if r.Method == http.MethodGet && !rec.rejected() {
			return
		}
		h.audit.record(rec)
	})
}

// noteRejection is the auth middleware hook for refused calls.
func noteRejection(r *http.Request, id authz.Identity, err error) {
	if n := noteFrom(r.Context()); n != nil {
		n.id, n.err = id, err
	}
}

func auditOutcome(status int, err error) string {
	if err != nil {
		return string(errors.KindOf(err))
	}
	switch {
	case status < http.StatusBadRequest:
		return outcomeOK
	case status == http.StatusUnauthorized:
		return string(errors.KindAuthentication)
	case status == http.StatusForbidden:
		return string(errors.KindAuthorization)
	default:
		return string(errors.KindInternal)
	}
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (s *statusCapture) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
