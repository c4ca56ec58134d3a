package ansi

// Banner is the art shown to a session when it connects.
const Banner = "\r\n" +
	" _____                    _         _____                    _         \r\n" +
	"|_   _|_      _____ _ __ | |_ _   _|_   _|_      _____ _ __ | |_ _   _ \r\n" +
	"  | | \\ \\ /\\ / / _ \\ '_ \\| __| | | | | | \\ \\ /\\ / / _ \\ '_ \\| __| | | |\r\n" +
	"  | |  \\ V  V /  __/ | | | |_| |_| | | |  \\ V  V /  __/ | | | |_| |_| |\r\n" +
	"  |_|   \\_/\\_/ \\___|_| |_|\\__|\\__, | |_|   \\_/\\_/ \\___|_| |_|\\__|\\__, |\r\n" +
	"                              |___/                              |___/ \r\n" +
	"\r\n" +
	"                          Welcome to the dungeon.\r\n"
