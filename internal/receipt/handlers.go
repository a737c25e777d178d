package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxUploadSize allows full-resolution phone photos
const maxUploadSize = int64(50 << 20)

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message} with CORS headers set
func writeError(w http.ResponseWriter, message string, status int) {
	setCORSHeaders(w)
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors onto HTTP statuses
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrReceiptNotFound):
		writeError(w, "Receipt not found", http.StatusNotFound)
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleListReceipts returns receipts, optionally limited by ?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	var dates DateRange
	for param, dst := range map[string]*time.Time{"from": &dates.From, "to": &dates.To} {
		value := r.URL.Query().Get(param)
		if value == "" {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02", value, time.Local)
		if err != nil {
			writeError(w, "Invalid "+param+" date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		*dst = t
	}

	receipts, err := s.service.ListReceipts(dates)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleUploadReceipt accepts a multipart "file" and runs it through the pipeline
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	result, err := s.service.UploadReceipt(r.Context(), header.Filename, data)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			writeError(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		writeServiceError(w, err)
		return
	}

	switch result.Status() {
	case "success":
		writeJSON(w, http.StatusCreated, result)
	case "cached":
		writeJSON(w, http.StatusOK, result)
	default:
		writeJSON(w, http.StatusUnprocessableEntity, result)
	}
}

// handleGetReceipt returns a single receipt with its items
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptPhoto returns the photo a receipt was read from
func (s *Server) handleGetReceiptPhoto(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptPhoto(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrReceiptNotFound) {
			writeServiceError(w, err)
			return
		}
		writeError(w, "Photo not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleUpdateReceipt applies a partial update
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var update ReceiptUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if update.Currency != nil {
		if _, ok := ParseCurrency(string(*update.Currency)); !ok {
			writeError(w, "Unknown currency", http.StatusBadRequest)
			return
		}
	}

	receipt, err := s.service.UpdateReceipt(r.PathValue("id"), update)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleUpdateItems replaces the item list of a receipt
func (s *Server) handleUpdateItems(w http.ResponseWriter, r *http.Request) {
	var items []Item
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.UpdateItems(r.PathValue("id"), items)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDeleteReceipt deletes a receipt and its items
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDuplicates returns groups of likely duplicate receipts
func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	dups, err := s.service.FindDuplicates()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dups)
}

// handleStats returns ledger totals
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleGetCache returns the processing cache
func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Cache())
}

// handleRemoveCacheEntry forgets one photo so it is extracted again
func (s *Server) handleRemoveCacheEntry(w http.ResponseWriter, r *http.Request) {
	removed, err := s.service.RemoveCacheEntry(r.PathValue("hash"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !removed {
		writeError(w, "Cache entry not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearCache forgets every photo
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearCache(); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
