package logfield

const (
	Project            = "project"
	Dataset            = "dataset"
	TableName          = "tableName"
	StagingTableName   = "stagingTableName"
	FileName           = "fileName"
	FilePath           = "filePath"
	IngestionDate      = "ingestionDate"
	Query              = "query"
	QueryExecutionTime = "queryExecutionTime"
	Error              = "error"
)
