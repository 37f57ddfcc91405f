package dto

// ProcessImageRequest POST /image/process，兼容旧字段 imageData
type ProcessImageRequest struct {
	Image     string `json:"image"`
	ImageData string `json:"imageData"`
}

func (r *ProcessImageRequest) Source() string {
	if r.Image != "" {
		return r.Image
	}
	return r.ImageData
}

// ProcessImageResponse 处理结果；处理失败时回显原图并带 warning
type ProcessImageResponse struct {
	Success        bool   `json:"success"`
	ProcessedImage string `json:"processedImage"`
	Warning        string `json:"warning,omitempty"`
}
