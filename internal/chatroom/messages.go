package chatroom

// PlaceholderName 为尚未设置用户名的会话显示名。
const PlaceholderName = "Anonymous"

// 发给客户端的文本。
const (
	serverPrefix = "[SERVER]: "

	promptUsernameText  = "[SERVER]: Please set your username using /username <name>"
	usernameSetFmt      = "[SERVER]: Username set to %s"
	joinedFmt           = "[SERVER]: '%s' has joined the chat room."
	nameTakenText       = "[SERVER]: The username is already taken."
	nameEmptyText       = "[SERVER]: Invalid username. Please provide a non-empty username."
	mustSetUsernameText = "[SERVER]: You must set a username before sending messages."
	shutdownDeniedText  = "[SERVER]: You do not have permission to shut down the server."
	privateUsageText    = "[SERVER]: Usage: /private <username> <message>"
	goodbyeFmt          = "[SERVER]: Goodbye, %s!"
	leftFmt             = "[SERVER]: %s has left the chat."
	disconnectedFmt     = "[SERVER]: %s disconnected."
	kickedText          = "[SERVER]: You are kicked out by the admin!"
	chatFmt             = "[%s]: %s"
	privateFromFmt      = "[Private from %s]: %s"
	privateFromServer   = "[Private from SERVER]: %s"

	// ShutdownNotice 为关服时广播的正文，发送时带 [SERVER] 前缀。
	ShutdownNotice = "The server is shutting down. You will be disconnected."

	listHeader = "Connected clients:\n"

	// ClientHelpText 为客户端命令说明，终端客户端的本地 /help 同样使用它。
	ClientHelpText = "[CLIENT HELP]:\n" +
		"/help - Show this help message\n" +
		"/username <name> - Set your username\n" +
		"/list - List all connected clients\n" +
		"/private <username> <message> - Send a private message to a user\n" +
		"/quit - Disconnect from the server"
)

// 控制台输出。
const (
	listeningFmt          = "Server listening on port %d\n"
	unknownCommandText    = "Unknown command. Type /help for a list of commands.\n"
	recipientNotFoundFmt  = "[SERVER]: Recipient '%s' not found.\n"
	userNotFoundFmt       = "User '%s' not found.\n"
	removedFmt            = "%s Removed!\n"
	consoleClientGoneFmt  = "Client %s disconnected.\n"
	consolePrivateUsage   = "Usage: /private <username> <message>\n"
	consoleRemoveUsage    = "Usage: /remove <username>\n"
	consoleMessageUsage   = "Usage: /message <message>\n"
	shuttingDownText      = "Server is shutting down...\n"
	shutDownCompletedText = "Server has been shut down.\n"

	serverHelpText = "\n[SERVER HELP]:\n" +
		"/help - Show this help message\n" +
		"/list - List all connected clients\n" +
		"/message - Send a public message to all clients\n" +
		"/private <username> <message> - Send a private message to a user\n" +
		"/remove <username> - Remove the user with that username\n" +
		"/shutdown - Shut down the server\n\n"
)
