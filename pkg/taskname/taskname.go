package taskname

const (
	// ETL tasks
	ETLTaskRun = "etl:task:run"
)
