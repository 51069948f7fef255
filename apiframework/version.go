package apiframework

// Version is set at build time via -ldflags.
var Version = "dev"

// AboutServer describes the running node.
type AboutServer struct {
	Version        string `json:"version"`
	NodeInstanceID string `json:"nodeInstanceID"`
	Tenancy        string `json:"tenancy"`
}

func GetVersion() string {
	return Version
}
