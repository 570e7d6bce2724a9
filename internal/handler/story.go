package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"vault_chat/internal/service"
	"vault_chat/pkg/logger"
)

type StoryHandler struct {
	sessions  service.SessionManager
	maxUpload int64
	log       logger.Logger
}

func NewStoryHandler(sessions service.SessionManager, maxUpload int64, log logger.Logger) *StoryHandler {
	return &StoryHandler{
		sessions:  sessions,
		maxUpload: maxUpload,
		log:       log,
	}
}

func (h *StoryHandler) List(c *gin.Context) {
	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	c.JSON(http.StatusOK, gin.H{"groups": session.StoryGroups()})
}

// Create принимает multipart-форму: caption и необязательный media.
func (h *StoryHandler) Create(c *gin.Context) {
	upload, err := readUpload(c, "media", h.maxUpload)
	if err != nil {
		respondUploadError(c, err)
		return
	}
	caption := c.PostForm("caption")
	if upload == nil && caption == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "story needs media or caption"})
		return
	}

	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	var media []byte
	if upload != nil {
		media = upload.Data
	}

	story, err := session.PostStory(c.Request.Context(), media, caption)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, story)
}

func (h *StoryHandler) Delete(c *gin.Context) {
	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	if err := session.DeleteStory(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) RecordView(c *gin.Context) {
	session, release, ok := acquireSession(c, h.sessions)
	if !ok {
		return
	}
	defer release()

	if err := session.RecordView(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
