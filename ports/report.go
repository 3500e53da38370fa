package ports

import "context"

// ReportSink receives the rendered analysis report.
type ReportSink interface {
	WriteReport(ctx context.Context, name string, markdown []byte, html []byte) error
}
