// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentProcessingTask represents the data structure for a document
// ingestion job: the uploaded object is fetched from storage, extracted,
// chunked, cached and indexed by the pipeline processor.
type DocumentProcessingTask struct {
	DocumentID   string `json:"document_id"`
	ObjectName   string `json:"object_name"`
	FileName     string `json:"file_name"`
	FileCategory string `json:"file_category"`
}
