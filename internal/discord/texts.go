package discord

// User-facing message catalogue.
const (
	textRequestSubmitted = "Your whitelist request has been submitted! A team member will review it as soon as possible. You'll receive a notification once your request has been processed."
	textRequestPending   = "You already have a pending whitelist request. Please wait until it's processed before submitting a new one."
	textRequestDuplicate = "There is already a pending request for this username. If you're not the owner of this account, please choose your correct name or wait until the existing request has been processed."
	textInvalidUsername  = "The Minecraft username you provided appears to be invalid. Please check the spelling and ensure you're using your Java Edition username."
	textRequestApproved  = "Great news! Your whitelist request has been approved! You can now join the server as %s."
	textRequestRejected  = "Unfortunately, your whitelist request has been rejected. If you have any questions, please contact a moderator for more information."

	textModRequestTitle = "New Whitelist Request"

	textErrorGeneric    = "An error occurred. Please try again later or contact an administrator."
	textErrorPermission = "You don't have permission to use this command."
	textErrorRemote     = "Failed to communicate with the game server. Please contact an administrator."

	textWhitelistAdded    = "Successfully added %s to the whitelist."
	textWhitelistRemoved  = "Successfully removed %s from the whitelist."
	textWhitelistCheckOn  = "%s is on the whitelist."
	textWhitelistCheckOff = "%s is not on the whitelist."
	textRevokeNothing     = "No approved whitelist entry found for %s."

	textRoleApplied  = "The %s group has been assigned to your Minecraft account %s."
	textRoleNoneMaps = "None of your Discord roles map to an in-game group."
)
