package errors

type ExitCode int

const (
	GenericFailureExitCode ExitCode = 1

	ConfigFailureExitCode ExitCode = 10

	// Planning aborts
	NoConnectableNodesExitCode ExitCode = 11
	NoCapableNodesExitCode     ExitCode = 12
	SyncFailureExitCode        ExitCode = 13
	CapabilityFailureExitCode  ExitCode = 14
	ActivationFailureExitCode  ExitCode = 15

	PublishFailureExitCode ExitCode = 16

	CommandFailureExitCode ExitCode = 17
)
