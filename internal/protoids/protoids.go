// Package protoids centralizes the Blaze component and command ids
// every handler and client dispatches by. Keeping them in one place
// means the Session Engine's dispatch table and every component
// package agree on the same numbers without importing each other.
package protoids

// Component identifies which subsystem a packet targets.
type Component uint16

const (
	ComponentAuthentication Component = 0x0001
	ComponentGameManager    Component = 0x0004
	ComponentRedirector     Component = 0x0005
	ComponentStats          Component = 0x0007
	ComponentUtil           Component = 0x0009
	ComponentMessaging      Component = 0x000F
	ComponentUserSessions   Component = 0x0019
)

// Command identifies an operation within a Component.
type Command uint16

const (
	CommandRedirectorGetServerInstance Command = 0x0001

	CommandAuthLogin        Command = 0x0001
	CommandAuthLoginPersona Command = 0x000E
	CommandAuthOriginLogin  Command = 0x0003

	CommandUtilPing          Command = 0x0002
	CommandUtilPreAuth       Command = 0x0007
	CommandUtilPostAuth      Command = 0x0008
	CommandUtilFetchClientConfig Command = 0x0001
	CommandUtilSetClientMetrics  Command = 0x0009

	CommandUserSessionsUpdateUserSession Command = 0x0001
	CommandUserSessionsSetSession        Command = 0x0002
	CommandUserSessionsUserRemoved       Command = 0x0003

	CommandGameManagerCreateGame            Command = 0x0001
	CommandGameManagerJoinGame              Command = 0x0002
	CommandGameManagerLeaveGame             Command = 0x0003
	CommandGameManagerPlayerJoining         Command = 0x0004
	CommandGameManagerRemovePlayer          Command = 0x0005
	CommandGameManagerUpdateGameAttributes  Command = 0x0006
	CommandGameManagerUpdateGameState       Command = 0x0007
	CommandGameManagerListGames             Command = 0x0008
	CommandGameManagerHostMigrationStart    Command = 0x0009
	CommandGameManagerHostMigrationFinished Command = 0x000A
	CommandGameManagerMatchmakingRequest    Command = 0x000B
	CommandGameManagerMatchmakingFailed     Command = 0x000C

	CommandStatsGetStats Command = 0x0001

	CommandMessagingSendMessage Command = 0x0001
)

// ErrCode is a Blaze protocol-level error code, carried in the packet
// header rather than as a typed payload field.
type ErrCode uint16

const (
	ErrNone            ErrCode = 0
	ErrSystem          ErrCode = 1
	ErrCommandNotFound ErrCode = 2
	ErrAuthRequired    ErrCode = 3
	ErrInvalidSession  ErrCode = 4
	ErrGameNotFound    ErrCode = 5
	ErrGameFull        ErrCode = 6
	ErrUpstreamUnavailable ErrCode = 7
)
