package dto

// CreateJobRequest 创建任务请求，uploadedImage 为 data URI
type CreateJobRequest struct {
	DBUserID      string `json:"dbUserId,omitempty"`
	UploadedImage string `json:"uploadedImage,omitempty"`
}

// CreateJobResponse 创建任务响应
type CreateJobResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	JobID   string `json:"jobId"`
}

// JobIDRequest 只携带 jobId 的请求
type JobIDRequest struct {
	JobID string `json:"jobId" binding:"required"`
}

// BestFitResponse 最佳搭配图片
type BestFitResponse struct {
	Status    string `json:"status"`
	JobID     string `json:"jobId"`
	ImageData string `json:"imageData,omitempty"`
	Cached    bool   `json:"cached"`
	JobStatus string `json:"jobStatus,omitempty"`
}

// WearSuitResponse 穿搭建议图片
type WearSuitResponse struct {
	Status string      `json:"status"`
	JobID  string      `json:"jobId"`
	Data   interface{} `json:"data"`
}

// JobHistoryItem 历史记录条目
type JobHistoryItem struct {
	JobID         string `json:"jobId"`
	Status        string `json:"status"`
	UploadedImage string `json:"uploadedImage,omitempty"`
	BestFitImage  string `json:"bestFitImage,omitempty"`
	CreatedAt     string `json:"createdAt"`
}
