// Package buildinfo carries version information set at link time:
//
//	go build -ldflags "-X github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/buildinfo.Version=v0.3.0"
package buildinfo

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)
