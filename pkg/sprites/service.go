package sprites

import "sort"

// DefaultHandlerCommand starts the handler CLI on the sprite.
const DefaultHandlerCommand = "skyclaw handler start"

// HandlerServiceDefinition builds the service definition that runs the
// mailbox handler on a sprite. The credential and any forwarded environment
// variables ride in the argument vector, so a changed token or environment
// shows up as a definition change and triggers reconciliation.
func HandlerServiceDefinition(token, handlerCommand string, extraEnv map[string]string) PutServiceInput {
	if handlerCommand == "" {
		handlerCommand = DefaultHandlerCommand
	}

	keys := make([]string, 0, len(extraEnv))
	for key := range extraEnv {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)+4)
	args = append(args, "SKYCLAW_TOKEN="+token)
	for _, key := range keys {
		args = append(args, key+"="+extraEnv[key])
	}
	args = append(args, "sh", "-lc", handlerCommand)

	return PutServiceInput{
		Cmd:  "env",
		Args: args,
	}
}

// EqualDefinition reports whether two definitions share the same command and
// argument vector (same length, element-wise equality). Identical
// definitions must not be rewritten: a rewrite restarts the service.
func EqualDefinition(current *Service, desired PutServiceInput) bool {
	if current == nil {
		return false
	}
	if current.Cmd != desired.Cmd {
		return false
	}
	if len(current.Args) != len(desired.Args) {
		return false
	}
	for i, arg := range current.Args {
		if arg != desired.Args[i] {
			return false
		}
	}
	return true
}
