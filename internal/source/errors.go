package source

import "errors"

var (
	ErrUnsupportedURL  = errors.New("the url is not supported")
	ErrVideoIDNotFound = errors.New("unable to get the video id from the youtube url")
)
