package service

import "time"

// TemplateFragment is one entry of the ordered template list that makes up
// the offer skeleton.
type TemplateFragment struct {
	File  string `json:"file" mapstructure:"file"`
	Order int    `json:"order" mapstructure:"order"`
	Name  string `json:"name" mapstructure:"name"`
	IsTOC bool   `json:"isToc" mapstructure:"is_toc"`
}

// OfferRequest carries the substitution values and product selection for one
// generation request. Field keys are bare marker names, without delimiters.
type OfferRequest struct {
	Fields   map[string]string
	Products []string
}

// OfferFolderInfo describes one generated offer directory under the output
// root.
type OfferFolderInfo struct {
	Folder    string    `json:"folder"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"createdAt"`
}

// Response is the common handler response envelope.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"msg,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse wraps paginated list data.
type ListResponse struct {
	Total  int64       `json:"total"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
	Items  interface{} `json:"items"`
}
