package pipeline

import "fmt"

const (
	MsgWelcome       = "Welcome! Send me an audio file to extract the background voice."
	MsgStarting      = "Starting download..."
	MsgDownloading   = "Downloading: %d%%"
	MsgProcessing    = "Processing audio (Background extraction)..."
	MsgUploading     = "Uploading processed audio..."
	MsgUploadPercent = "Uploading: %d%%"
	MsgResultCaption = "Here is your processed audio (Background extracted)."
	MsgForwardFormat = "Processed file for user %s"
	MsgNoMedia       = "Please send an audio file."
	MsgBusy          = "The bot is busy right now. Please try again in a moment."
	MsgFailureFormat = "Error processing audio: %s"
)

const (
	LogSuccessFormat = "Successfully processed file for %d"
	LogFailureFormat = "Error processing file: %s"
)

func tooLarge(limit int64) string {
	return fmt.Sprintf("File too large. Limit is %dMB.", limit/(1<<20))
}
