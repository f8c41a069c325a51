package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"plantcare/internal/util"
	"plantcare/pkg/domain"
	"plantcare/services/api/internal/app"
)

type plantRequest struct {
	Name             *string `json:"name"`
	WateringInterval *int    `json:"wateringInterval"`
}

type wateringRequest struct {
	WateringDate time.Time `json:"wateringDate"`
}

func (r plantRequest) input() app.PlantInput {
	return app.PlantInput{Name: r.Name, WateringInterval: r.WateringInterval}
}

func (s *Server) handlePlants(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		plants, err := s.app.ListPlants(r.Context(), user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": plants,
			"count": len(plants),
		})
	case http.MethodPost:
		var req plantRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		plant, err := s.app.CreatePlant(r.Context(), user, req.input())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, plant)
	default:
		methodNotAllowed(w)
	}
}

// /api/plants/{id}[/water|/waterings[/{wid}]|/image]
func (s *Server) handlePlantByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/plants/"), "/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		s.handlePlant(w, r, user, id)
	case len(parts) == 2 && parts[1] == "water":
		s.handleWaterNow(w, r, user, id)
	case len(parts) == 2 && parts[1] == "waterings":
		s.handleWaterings(w, r, user, id)
	case len(parts) == 3 && parts[1] == "waterings" && parts[2] != "":
		s.handleWatering(w, r, user, id, parts[2])
	case len(parts) == 2 && parts[1] == "image":
		s.handleImage(w, r, user, id)
	default:
		notFound(w)
	}
}

func (s *Server) handlePlant(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		plant, err := s.app.GetPlant(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, plant)
	case http.MethodPatch:
		var req plantRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		plant, err := s.app.UpdatePlant(r.Context(), user, id, req.input())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, plant)
	case http.MethodDelete:
		if err := s.app.DeletePlant(r.Context(), user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleWaterNow(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	watering, err := s.app.WaterNow(r.Context(), user, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, watering)
}

func (s *Server) handleWaterings(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		waterings, err := s.app.ListWaterings(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": waterings,
			"count": len(waterings),
		})
	case http.MethodPost:
		var req wateringRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		watering, err := s.app.AddWatering(r.Context(), user, id, req.WateringDate)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, watering)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleWatering(w http.ResponseWriter, r *http.Request, user domain.User, id, wateringID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteWatering(r.Context(), user, id, wateringID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodPut:
		s.handleUploadImage(w, r, user, id)
	case http.MethodGet:
		url, err := s.app.ImageURL(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "private, no-store")
		http.Redirect(w, r, url, http.StatusFound)
	case http.MethodDelete:
		plant, err := s.app.ClearPlantImage(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, plant)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	logger := util.LoggerFromContext(r.Context())
	plant, err := s.app.SetPlantImage(r.Context(), user, id, header.Header.Get("Content-Type"), file, func(uploaded, total int64) {
		logger.Debug("plant image upload progress", "plant_id", id, "uploaded", uploaded, "total", total)
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}
