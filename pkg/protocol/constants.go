package protocol

// Directory and path constants used throughout ticketflow. All paths are
// relative to the project root unless noted otherwise.
const (
	// TFDir is the per-project state directory.
	TFDir = ".tf"

	// TicketsDir is where tk keeps ticket Markdown files.
	TicketsDir = ".tickets"

	// ConfigDir holds settings.json and workflow configuration.
	ConfigDir = ".tf/config"

	// ScriptsDir holds installed helper scripts.
	ScriptsDir = ".tf/scripts"

	// KnowledgeDir is the default knowledge-base root (TF_KNOWLEDGE_DIR overrides).
	KnowledgeDir = ".tf/knowledge"

	// RalphDir holds the Ralph loop config, event log, and JSONL captures.
	RalphDir = ".tf/ralph"

	// SettingsFile is the project settings file name inside ConfigDir.
	SettingsFile = "settings.json"

	// RalphConfigFile is the Ralph loop config file name inside RalphDir.
	RalphConfigFile = "config.json"

	// RalphDBFile is the sqlite event log inside RalphDir.
	RalphDBFile = "ralph.db"

	// RalphLogsDir is the JSONL capture directory inside RalphDir.
	RalphLogsDir = "logs"

	// TicketArtifactsDir is the per-ticket artifact root inside the knowledge dir.
	TicketArtifactsDir = "tickets"

	// InstallRecordFile lists the manifest entries written by the last install.
	InstallRecordFile = ".tf/config/installed-assets.txt"

	// FilesChangedFile is the default tf track destination.
	FilesChangedFile = "files_changed.txt"
)

// Artifact file names written by the Agent Runtime into a ticket's artifact dir.
const (
	ReviewFile           = "review.md"
	FixesFile            = "fixes.md"
	CloseSummaryFile     = "close-summary.md"
	PostFixVerification  = "post-fix-verification.md"
	RetryStateFile       = "retry-state.json"
	RetryStateBackupStem = "retry-state.json.bak."
)

// Binaries the core shells out to.
const (
	AgentRuntimeBin = "pi"
	TicketBin       = "tk"
)
