package bot

// User-facing texts.
const (
	ReplyIntro = "This bot provides a daily subscription to Ryanair sales. " +
		"Just type an airport IATA code as a message (without '/') to subscribe to a departure point " +
		"(KRK for Krakow, WMI for Warsaw Modlin etc.)"
	ReplyAdded           = "New airport subscription successfully added."
	ReplyAddedNoFares    = "Fares for this airport could not be fetched right now. You will get them with the next daily update."
	ReplyAlreadyExists   = "Subscription to this airport already exists."
	ReplyInvalidCode     = "Please provide valid airport code."
	ReplyCodeList        = "You can check airports here: https://www.nationsonline.org/oneworld/IATA_Codes/airport_code_list.htm"
	ReplyStartFirst      = "Please run /start command first."
	ReplyNoSubscriptions = "You have no subscriptions."
	ReplyPaused          = "You will no longer receive updates."
	ReplyResumed         = "From now on you will get ticket updates."
	ReplyPickRemoval     = "Pick subscription to remove"
	ReplyRemovedPrefix   = "Subscription removed: "
	ReplyNotSubscribed   = "You are not subscribed to this airport."
	ReplyUnknownCommand  = "Unknown command. Try /help"
	ReplyPrivateOnly     = "Please talk to me in a private chat."
	ReplyBusy            = "Busy, try again in a moment."
	ReplyInternal        = "Something went wrong, please try again later."
)
