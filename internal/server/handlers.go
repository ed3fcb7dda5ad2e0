package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/farmrobo-dev/fruploader/internal/flash"
	"github.com/farmrobo-dev/fruploader/internal/release"
	"github.com/farmrobo-dev/fruploader/internal/serial"
)

func (s *Server) listPorts(c *gin.Context) {
	ports, err := s.opts.Lister()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	if ports == nil {
		ports = []serial.PortInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"ports": ports})
}

func (s *Server) checkVersion(c *gin.Context) {
	if s.opts.Client == nil {
		errorJSON(c, http.StatusServiceUnavailable, errors.New("release checks are not configured"))
		return
	}
	u := release.CheckUpdate(c.Request.Context(), s.opts.Client, release.ReadMarker(s.opts.Marker))
	if u.Err != nil {
		errorJSON(c, http.StatusBadGateway, u.Err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) download(c *gin.Context) {
	if s.opts.Installer == nil {
		errorJSON(c, http.StatusServiceUnavailable, errors.New("downloads are not configured"))
		return
	}
	rel, err := s.opts.Installer.Install(c.Request.Context())
	switch {
	case errors.Is(err, release.ErrNetworkUnavailable):
		errorJSON(c, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		errorJSON(c, http.StatusBadGateway, err)
		return
	}

	names := make([]string, 0, len(rel.Assets))
	for _, a := range rel.Assets {
		names = append(names, a.Name)
	}
	c.JSON(http.StatusOK, gin.H{"version": rel.Tag, "assets": names})
}

type uploadRequest struct {
	Port     string `json:"port" binding:"required"`
	Firmware string `json:"firmware"`
	Variant  string `json:"variant"`
	External *bool  `json:"external"`
}

// firmwarePath picks the image in order: explicit path, release variant,
// legacy external/internal image.
func (s *Server) firmwarePath(req uploadRequest) (string, error) {
	switch {
	case req.Firmware != "":
		return req.Firmware, nil
	case req.Variant != "":
		v, err := release.ParseVariant(req.Variant)
		if err != nil {
			return "", err
		}
		return v.Path(s.opts.FirmwareDir), nil
	case req.External != nil:
		return filepath.Join(s.opts.FirmwareDir, release.LegacyFirmware(*req.External)), nil
	}
	return "", errors.New("one of firmware, variant or external is required")
}

func (s *Server) startUpload(c *gin.Context) {
	if s.opts.Coordinator == nil {
		errorJSON(c, http.StatusServiceUnavailable, errors.New("uploads are not configured"))
		return
	}

	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	path, err := s.firmwarePath(req)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		errorJSON(c, http.StatusNotFound, fmt.Errorf("%w: %s", flash.ErrFirmwareNotFound, path))
		return
	}

	job := s.opts.Coordinator.Submit(context.WithoutCancel(c.Request.Context()), flash.Request{
		Firmware: path,
		Device:   req.Port,
	})
	s.mu.Lock()
	if len(s.jobs) >= maxTrackedUploads {
		s.pruneFinishedLocked()
	}
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.log.Info("upload accepted", zap.String("id", job.ID), zap.String("port", req.Port), zap.String("firmware", path))
	c.JSON(http.StatusAccepted, gin.H{"id": job.ID})
}

// maxTrackedUploads bounds the jobs kept for status polling.
const maxTrackedUploads = 100

type uploadStatus struct {
	ID       string `json:"id"`
	Port     string `json:"port"`
	Firmware string `json:"firmware"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code,omitempty"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
	Restore  string `json:"restore_warning,omitempty"`
}

func (s *Server) getUpload(c *gin.Context) {
	s.mu.Lock()
	job, ok := s.jobs[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		errorJSON(c, http.StatusNotFound, fmt.Errorf("upload %s not found", c.Param("id")))
		return
	}

	st := uploadStatus{
		ID:       job.ID,
		Port:     job.Request.Device,
		Firmware: job.Request.Firmware,
		Status:   "running",
	}
	if job.Finished() {
		task, err := job.Wait()
		if task == nil {
			st.Status = "rejected"
		} else {
			rec := task.Record()
			st.Status = rec.Outcome
			st.ExitCode = rec.ExitCode
			st.Duration = rec.Duration
			st.Restore = rec.Restore
		}
		if err != nil {
			st.Error = err.Error()
		}
		// A finished upload is reported once, then forgotten.
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
	}
	c.JSON(http.StatusOK, st)
}

// pruneFinishedLocked drops uploads that finished without anyone asking
// for their result.
func (s *Server) pruneFinishedLocked() {
	for id, job := range s.jobs {
		if job.Finished() {
			delete(s.jobs, id)
		}
	}
}
