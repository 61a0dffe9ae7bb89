package staging

import "fmt"

func Example() {
	var batch Batch[string]

	batch.Set([]byte("cherry"), "red")
	batch.Set([]byte("apple"), "green")
	batch.Set([]byte("banana"), "yellow")
	batch.Set([]byte("apple"), "red")

	for key, val := range batch.Items {
		fmt.Printf("%s: %s\n", key, val)
	}
	fmt.Println(batch.Len())

	// Output:
	// apple: red
	// banana: yellow
	// cherry: red
	// 3
}
