package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"heron/internal/spreadsheet"
	"heron/internal/utils/logger"
)

type UploadHandler struct {
	uploadDir string
	log       *logger.Logger
}

func NewUploadHandler(uploadDir string) *UploadHandler {
	return &UploadHandler{
		uploadDir: uploadDir,
		log:       logger.New("upload_handler"),
	}
}

// UploadWorkbook stores an uploaded .xlsx file and reports its columns so
// the client can pick the name and email columns before configuring.
func (h *UploadHandler) UploadWorkbook(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "No file provided",
		})
	}

	src, err := file.Open()
	if err != nil {
		h.log.Error("failed to open upload", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Unreadable upload",
		})
	}
	defer src.Close()

	path, err := spreadsheet.SaveUpload(h.uploadDir, file.Filename, src)
	if err != nil {
		h.log.Error("failed to store upload", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	columns, err := spreadsheet.ListColumns(path)
	if err != nil {
		h.log.Error("failed to read workbook columns", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Not a readable workbook",
		})
	}

	h.log.Success("workbook stored at %s", path)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"path":    path,
		"columns": columns,
	})
}
