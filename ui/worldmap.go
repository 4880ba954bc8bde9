package ui

// worldMap is a coarse land mask, 5 degrees of longitude per column and 10
// degrees of latitude per row.
var worldMap = [...]string{
	"                        :::::::::                                       ",
	"            ::::::::::: :::::::::      :        ::::::::::::::::::::::::",
	"   :::::::::::::::::::::: :::   :    :::::::::::::::::::::::::::::::::::",
	"   ::     :::::::::::::::          ::::::::::::::::::::::::::::::  :    ",
	"           :::::::::::::          ::::::::::::::::::::::::::::: ::      ",
	"            ::::::::::            ::: :: :::::::::::::::::::: :::       ",
	"              ::::  :            :::::::::::::::  ::::: :::::           ",
	"                 :::  ::         :::::::::::: :    ::  :::: :           ",
	"                    :::::::       ::::::::::::          :::::           ",
	"                    ::::::::::        :::::::            ::::::::::     ",
	"                     ::::::::         ::::::::               :::::      ",
	"                      ::::::           :::::               ::::::::     ",
	"                     :::::             ::                  ::::::::   : ",
	"                     :::                                         :   :: ",
	"                     ::                                                 ",
	"                       ::                                               ",
	"::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::",
	"::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::::",
}

const (
	mapWidth  = 72
	mapHeight = len(worldMap)
)

var mapProjection = Projection{Width: mapWidth, Height: mapHeight}
