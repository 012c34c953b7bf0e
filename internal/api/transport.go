// Package api is the HTTP and WebSocket control surface of the player.
package api

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/satindergrewal/stemplayer/internal/transport"
)

// Transport is the part of the transport controller the handlers drive.
type Transport interface {
	Load(folder string) (*transport.LoadResult, error)
	Play() error
	Pause() error
	Restart() error
	Seek(pos time.Duration) error
	SetGain(id transport.StemID, gain float64) error
	Status() transport.Status
}

// StemResponse is one stem as seen by clients. Volume is the gain on the
// 0-100 scale of a mixer fader.
type StemResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Title    string  `json:"title"`
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Gain     float64 `json:"gain"`
	Volume   int     `json:"volume"`
}

type StatusResponse struct {
	State     string         `json:"state"`
	Playing   bool           `json:"playing"`
	Folder    string         `json:"folder,omitempty"`
	Position  float64        `json:"position"`
	Duration  float64        `json:"duration"`
	Clock     string         `json:"clock"`
	Stems     []StemResponse `json:"stems"`
	LastError string         `json:"lastError,omitempty"`
}

type SkippedResponse struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type LoadResponse struct {
	Folder    string            `json:"folder"`
	StemCount int               `json:"stemCount"`
	Stems     []StemResponse    `json:"stems"`
	Skipped   []SkippedResponse `json:"skippedFiles"`
}

func newStemResponses(stems []transport.StemInfo) []StemResponse {
	out := make([]StemResponse, 0, len(stems))
	for _, s := range stems {
		out = append(out, StemResponse{
			ID:       string(s.ID),
			Name:     s.Name,
			Title:    s.Title,
			Path:     s.Path,
			Duration: s.Duration.Seconds(),
			Gain:     s.Gain,
			Volume:   int(s.Gain*100 + 0.5),
		})
	}
	return out
}

func newStatusResponse(st transport.Status) StatusResponse {
	return StatusResponse{
		State:     st.State.String(),
		Playing:   st.State == transport.Playing,
		Folder:    st.Folder,
		Position:  st.Position.Seconds(),
		Duration:  st.Duration.Seconds(),
		Clock:     transport.FormatClock(st.Position) + " / " + transport.FormatClock(st.Duration),
		Stems:     newStemResponses(st.Stems),
		LastError: st.LastError,
	}
}

func newLoadResponse(res *transport.LoadResult) LoadResponse {
	resp := LoadResponse{
		Folder:    res.Folder,
		StemCount: res.StemCount,
		Stems:     newStemResponses(res.Stems),
		Skipped:   []SkippedResponse{},
	}
	for _, s := range res.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedResponse{Path: s.Path, Reason: s.Reason})
	}
	return resp
}

// errorStatus maps a transport error to an HTTP status code.
func errorStatus(err error) int {
	var de *transport.DeviceError
	switch {
	case errors.Is(err, transport.ErrInvalidState):
		return http.StatusConflict
	case errors.As(err, &de):
		return http.StatusServiceUnavailable
	case errors.Is(err, transport.ErrNoStems):
		return http.StatusUnprocessableEntity
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
