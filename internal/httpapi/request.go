package httpapi

import (
	stderrors "errors"
	"mime/multipart"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/errors"
	"github.com/onlab/orderdesk/internal/httputil"
	"github.com/onlab/orderdesk/internal/objectstore"
)

// IdempotencyKeyHeader carries the client's submission key.
const IdempotencyKeyHeader = "Idempotency-Key"

// multipartMemory is how much of a multipart body is kept in memory.
const multipartMemory = 8 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into a 422 listing field -> failed rule.
func validationError(err error) *errors.ServiceError {
	se := errors.Validation("Request validation failed", err)
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		for _, fe := range verrs {
			se.WithDetails(fe.Field(), fe.Tag())
		}
	}
	return se
}

// decodeAndValidate decodes a JSON body into v and validates it.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if !httputil.DecodeJSON(w, r, v) {
		return false
	}
	if err := validate.Struct(v); err != nil {
		s.writeError(w, r, validationError(err))
		return false
	}
	return true
}

func internalStatus(err error) int {
	return errors.FromDomain(err).HTTPStatus
}

// pageFromQuery reads page and page_size.
func pageFromQuery(r *http.Request) (domain.Page, error) {
	q := r.URL.Query()
	number, err := intParam(q.Get("page"), 1)
	if err != nil {
		return domain.Page{}, errors.BadRequest("page must be a positive integer")
	}
	size, err := intParam(q.Get("page_size"), domain.DefaultPageSize)
	if err != nil {
		return domain.Page{}, errors.BadRequest("page_size must be a positive integer")
	}
	return domain.NewPage(number, size), nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

// parseMultipart bounds and parses a multipart body.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			httputil.WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, string(errors.CodeBadRequest), "upload too large", nil)
			return false
		}
		httputil.BadRequest(w, "invalid multipart form")
		return false
	}
	return true
}

// openFiles opens every file sent under field. The caller closes them.
func (s *Server) openFiles(r *http.Request, field string) ([]objectstore.File, func(), error) {
	var (
		files   []objectstore.File
		closers []multipart.File
	)
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}
	if r.MultipartForm == nil {
		return nil, closeAll, nil
	}
	for _, fh := range r.MultipartForm.File[field] {
		if fh.Size > s.maxUpload {
			closeAll()
			return nil, func() {}, errors.Validation("file "+fh.Filename+" is too large", nil)
		}
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, errors.BadRequest("unreadable file " + fh.Filename)
		}
		closers = append(closers, f)
		files = append(files, objectstore.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return files, closeAll, nil
}

type pageResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func newPageResponse[T any](items []T, total int, page domain.Page) pageResponse[T] {
	if items == nil {
		items = []T{}
	}
	return pageResponse[T]{Items: items, Total: total, Page: page.Number, PageSize: page.Size}
}
