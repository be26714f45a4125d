package engine

import "math/rand/v2"

// TaskPicker chooses the prompt for the next round.
type TaskPicker interface {
	// Pick returns a task different from exclude whenever the pool allows it.
	Pick(exclude string) string
}

type TaskPool struct {
	Tasks []string
	Intn  func(n int) int
}

var defaultTasks = []string{
	// brands
	"Name brands of CARS", "Name types of CHEESE", "Name Luxury Fashion Brands", "Name Fast Food Chains",
	"Name Soda Brands", "Name Smartphone Manufacturers", "Name Shoe Brands", "Name Cereal Brands",
	"Name Car Rental Companies", "Name Airline Companies", "Name Makeup Brands", "Name Video Game Consoles",

	// geography
	"Name countries in AFRICA", "Name Capital Cities in Europe", "Name US States", "Name Rivers in the World",
	"Name Mountains", "Name Islands in the Caribbean", "Name Countries starting with S", "Name Cities in Japan",
	"Name Oceans and Seas", "Name Deserts", "Name Australian Cities", "Name Countries in South America",

	// pop culture
	"Name Harry Potter characters", "Name Marvel Movies", "Name Star Wars Characters", "Name Pokémon",
	"Name Pixar Movies", "Name Game of Thrones Houses", "Name Friends Characters", "Name Taylor Swift Songs",
	"Name James Bond Actors", "Name Netflix Original Series", "Name Disney Princesses", "Name Rappers",
	"Name Rock Bands from the 70s", "Name Oscar Winning Movies", "Name Anime Series", "Name Superheroes",

	// knowledge
	"Name Programming Languages", "Name Elements on the Periodic Table", "Name Bones in the Human Body",
	"Name Planets in the Solar System", "Name Breeds of Dogs", "Name Types of Pasta", "Name Fruits that are Red",
	"Name Vegetables that grow underground", "Name Currency names", "Name Mathematical Shapes",
	"Name Chess Pieces", "Name Musical Instruments", "Name Languages spoken in India", "Name Nobel Prize Winners",

	// misc
	"Name Things you find in a Bathroom", "Name Things that are Sticky", "Name Things that are Yellow",
	"Name Things you bring Camping", "Name Jobs that require a Uniform", "Name Sports played with a Ball",
	"Name Board Games", "Name Card Games", "Name Pizza Toppings", "Name Ice Cream Flavors",
}

func DefaultTaskPool() *TaskPool {
	return &TaskPool{Tasks: defaultTasks, Intn: rand.IntN}
}

func (p *TaskPool) Pick(exclude string) string {
	switch len(p.Tasks) {
	case 0:
		return ""
	case 1:
		return p.Tasks[0]
	}
	intn := p.Intn
	if intn == nil {
		intn = rand.IntN
	}
	i := intn(len(p.Tasks))
	if p.Tasks[i] == exclude {
		// Step to a neighbour rather than re-rolling so the pick stays bounded.
		i = (i + 1) % len(p.Tasks)
	}
	return p.Tasks[i]
}
