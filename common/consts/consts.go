package consts

// Tier names, one per independently installable process group inside a
// project workspace.
const (
	TierFrontend   = "frontend"
	TierBackend    = "backend"
	TierAIServices = "ai_services"
)

// Dev-server ports fixed by the sandbox template.
const (
	FrontendPort   = 3000
	BackendPort    = 8000
	AIServicesPort = 7000
)

const (
	PackageManifestFile = "package.json"
	ProjectMetaFile     = "project.toml"
)

const (
	InstallCommand = "npm install --legacy-peer-deps --silent"
	DevCommand     = "npm run dev"
)
