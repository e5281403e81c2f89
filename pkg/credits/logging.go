package credits

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger receives a callback for every state-changing credit operation.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one state-changing operation.
type OperationLog struct {
	Operation    string
	UserUUID     UserUUID
	Delta        PointsDelta
	BusinessType BusinessType
	BusinessNo   BusinessNo
	Metadata     MetadataJSON
	Status       string
	Error        error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}
