package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/matbox/pkg/matbox"
)

// defaultMaxMemory bounds the multipart form parts held in memory
const defaultMaxMemory = 32 << 20

// MaterialsHandler exposes matbox.Service over HTTP
type MaterialsHandler struct {
	service        matbox.Service
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption configures a MaterialsHandler
type HandlerOption func(*MaterialsHandler)

// WithLogger sets the handler logger
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *MaterialsHandler) {
		h.logger = logger
	}
}

// WithMaxUploadBytes caps request bodies of upload endpoints
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *MaterialsHandler) {
		h.maxUploadBytes = n
	}
}

func NewMaterialsHandler(service matbox.Service, opts ...HandlerOption) *MaterialsHandler {
	h := &MaterialsHandler{service: service, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes adds the material endpoints to r. An owner must already be
// resolved on the request context (see OwnerFromHeader and OwnerFromJWT).
func (h *MaterialsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ListMaterials)
	r.Get("/info/{name}", h.GetMaterialInfo)
	r.Get("/info/{category}/{minSize}/{maxSize}", h.GetInfoWithFilters)
	r.Get("/{name}", h.GetActualMaterial)
	r.Get("/{name}/{version}", h.GetSpecificMaterial)
	r.Post("/", h.AddMaterial)
	r.Post("/newVersion", h.AddVersion)
	r.Patch("/", h.ChangeCategory)
}

// CreatedResponse is returned by material creation and recategorization
type CreatedResponse struct {
	ID uuid.UUID `json:"id"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ListMaterials returns all materials of the owner
func (h *MaterialsHandler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.service.GetAllMaterials(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, materials)
}

// GetMaterialInfo returns the versions of one material
func (h *MaterialsHandler) GetMaterialInfo(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.GetInfoAboutMaterial(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, versions)
}

// GetInfoWithFilters returns versions of one category within a size range
func (h *MaterialsHandler) GetInfoWithFilters(w http.ResponseWriter, r *http.Request) {
	minSize, err := strconv.ParseInt(chi.URLParam(r, "minSize"), 10, 64)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: minimum size %q is not an integer", matbox.ErrInvalidSize, chi.URLParam(r, "minSize")))
		return
	}
	maxSize, err := strconv.ParseInt(chi.URLParam(r, "maxSize"), 10, 64)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: maximum size %q is not an integer", matbox.ErrInvalidSize, chi.URLParam(r, "maxSize")))
		return
	}

	infos, err := h.service.GetInfoWithFilters(r.Context(), matbox.FilterRequest{
		OwnerID:  OwnerFromContext(r.Context()),
		Category: chi.URLParam(r, "category"),
		MinSize:  minSize,
		MaxSize:  maxSize,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []*matbox.VersionInfo{}
	}
	render.JSON(w, r, infos)
}

// GetActualMaterial streams the latest version of a material
func (h *MaterialsHandler) GetActualMaterial(w http.ResponseWriter, r *http.Request) {
	download, err := h.service.GetActualMaterial(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.stream(w, r, download)
}

// GetSpecificMaterial streams one numbered version of a material
func (h *MaterialsHandler) GetSpecificMaterial(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "version")
	version, err := strconv.Atoi(raw)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %q is not a number", matbox.ErrInvalidVersion, raw))
		return
	}

	download, err := h.service.GetSpecificMaterial(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "name"), version)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.stream(w, r, download)
}

// AddMaterial creates a material from a multipart upload with "file" and "category" fields
func (h *MaterialsHandler) AddMaterial(w http.ResponseWriter, r *http.Request) {
	name, content, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.service.AddNewMaterial(r.Context(), matbox.AddMaterialRequest{
		OwnerID:  OwnerFromContext(r.Context()),
		Name:     name,
		Category: r.FormValue("category"),
		Content:  content,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreatedResponse{ID: id})
}

// AddVersion appends a version from a multipart upload with a "file" field
func (h *MaterialsHandler) AddVersion(w http.ResponseWriter, r *http.Request) {
	name, content, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	version, err := h.service.AddNewVersionOfMaterial(r.Context(), matbox.AddVersionRequest{
		OwnerID: OwnerFromContext(r.Context()),
		Name:    name,
		Content: content,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, version)
}

// ChangeCategory recategorizes a material from form fields "name" and "category"
func (h *MaterialsHandler) ChangeCategory(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	id, err := h.service.ChangeCategory(r.Context(), matbox.ChangeCategoryRequest{
		OwnerID:  OwnerFromContext(r.Context()),
		Name:     r.PostFormValue("name"),
		Category: r.PostFormValue("category"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, CreatedResponse{ID: id})
}

// Helper methods

var errBadRequest = errors.New("malformed request")

// readUpload returns the material name and bytes of the "file" part. The
// name defaults to the uploaded file name and may be overridden by a "name" field.
func (h *MaterialsHandler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	if h.maxUploadBytes > 0 {
		// Leave room for the multipart envelope and other fields
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+defaultMaxMemory/32)
	}
	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, fmt.Errorf("%w: upload exceeds the limit of %d bytes", matbox.ErrInvalidSize, h.maxUploadBytes)
		}
		return "", nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: file is required", errBadRequest)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	return name, content, nil
}

func (h *MaterialsHandler) stream(w http.ResponseWriter, r *http.Request, download *matbox.Download) {
	defer download.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": download.FileName}))
	w.Header().Set("ETag", strconv.Quote(download.ContentHash))
	w.Header().Set("X-Material-Version", strconv.Itoa(download.VersionNumber))

	start := time.Now()
	written, err := io.Copy(w, download.Body)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to stream material",
			"name", download.FileName, "version", download.VersionNumber, "bytes", written, "error", err)
		return
	}
	h.logger.DebugContext(r.Context(), "Material streamed",
		"name", download.FileName, "version", download.VersionNumber, "bytes", written, "duration", time.Since(start))
}

func (h *MaterialsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}

// errorStatus maps an error to its HTTP status and response body. Storage
// faults are reported without details.
func errorStatus(err error) (int, ErrorResponse) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	}

	kind := matbox.KindOf(err)
	switch kind {
	case matbox.KindNotFound:
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: kind.String()}
	case matbox.KindAlreadyExists:
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: kind.String()}
	case matbox.KindInvalidCategory, matbox.KindInvalidSize, matbox.KindInvalidVersion, matbox.KindInvalidName:
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: kind.String()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}
	}
}
